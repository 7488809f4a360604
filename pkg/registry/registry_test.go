/*
Copyright 2022 The Shipcat Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/distribution/distribution/v3/configuration"
	"github.com/distribution/distribution/v3/registry"
	_ "github.com/distribution/distribution/v3/registry/storage/driver/inmemory"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/v1/random"
	. "github.com/onsi/gomega"
)

var registryHost string

func TestMain(m *testing.M) {
	host, err := startTestRegistry()
	if err != nil {
		panic(err)
	}
	registryHost = host

	os.Exit(m.Run())
}

func startTestRegistry() (string, error) {
	port, err := getFreePort()
	if err != nil {
		return "", err
	}

	config := &configuration.Configuration{}
	config.Log.Level = configuration.Loglevel("error")
	config.Log.AccessLog.Disabled = true
	config.HTTP.Addr = fmt.Sprintf(":%d", port)
	config.HTTP.DrainTimeout = time.Duration(10) * time.Second
	config.Storage = map[string]configuration.Parameters{"inmemory": map[string]interface{}{}}
	dockerRegistry, err := registry.NewRegistry(context.Background(), config)
	if err != nil {
		return "", err
	}

	go dockerRegistry.ListenAndServe()

	return fmt.Sprintf("localhost:%d", port), nil
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func pushImage(g *WithT, ref string) string {
	img, err := random.Image(256, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(crane.Push(img, ref)).To(Succeed())

	digest, err := img.Digest()
	g.Expect(err).NotTo(HaveOccurred())
	return digest.String()
}

func TestReference(t *testing.T) {
	g := NewWithT(t)

	ref, err := Reference("quay.io/babylonhealth/fake-ask", "1.2.3")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ref).To(Equal("quay.io/babylonhealth/fake-ask:1.2.3"))

	_, err = Reference("quay.io/babylonhealth/fake-ask", "")
	g.Expect(err).To(MatchError(ContainSubstring("has no tag")))

	_, err = Reference("quay.io/babylonhealth/Fake Ask", "1.2.3")
	g.Expect(err).To(MatchError(ContainSubstring("invalid")))
}

func TestImageDigest(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	image := fmt.Sprintf("%s/babylonhealth/fake-ask", registryHost)
	expected := pushImage(g, image+":1.2.3")

	digest, err := ImageDigest(ctx, image, "1.2.3")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(digest).To(Equal(expected))

	_, err = ImageDigest(ctx, image, "9.9.9")
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, ErrTagNotFound)).To(BeTrue())
}

func TestSemverTags(t *testing.T) {
	g := NewWithT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	image := fmt.Sprintf("%s/babylonhealth/fake-storage", registryHost)
	for _, tag := range []string{"1.0.0", "v1.10.0", "1.2.0", "latest", "0a1b2c3"} {
		pushImage(g, image+":"+tag)
	}

	tags, err := SemverTags(ctx, image)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tags).To(Equal([]string{"v1.10.0", "1.2.0", "1.0.0"}))
}
