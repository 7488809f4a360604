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
	"net/http"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// ErrTagNotFound is returned when the image repository has no such tag.
var ErrTagNotFound = errors.New("image tag not found")

// Reference joins the image and the tag, the result is validated.
func Reference(image, tag string) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("image %s has no tag", image)
	}
	ref := fmt.Sprintf("%s:%s", strings.TrimSuffix(image, "/"), tag)
	if _, err := name.NewTag(ref); err != nil {
		return "", fmt.Errorf("'%s' invalid: %w", ref, err)
	}
	return ref, nil
}

// ImageDigest returns the digest of a remote image tag.
func ImageDigest(ctx context.Context, image, tag string) (string, error) {
	ref, err := Reference(image, tag)
	if err != nil {
		return "", err
	}

	digest, err := crane.Digest(ref, craneOptions(ctx)...)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%s: %w", ref, ErrTagNotFound)
		}
		return "", fmt.Errorf("resolving %s failed, error: %w", ref, err)
	}
	return digest, nil
}

// SemverTags returns the tags of the repository that are semantic versions,
// sorted from newest to oldest.
func SemverTags(ctx context.Context, image string) ([]string, error) {
	tags, err := crane.ListTags(image, craneOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("listing tags of %s failed, error: %w", image, err)
	}

	var versions []*semver.Version
	original := make(map[*semver.Version]string)
	for _, tag := range tags {
		if v, err := semver.StrictNewVersion(strings.TrimPrefix(tag, "v")); err == nil {
			versions = append(versions, v)
			original[v] = tag
		}
	}
	sort.Sort(sort.Reverse(semver.Collection(versions)))

	result := make([]string, 0, len(versions))
	for _, v := range versions {
		result = append(result, original[v])
	}
	return result, nil
}

func isNotFound(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode == http.StatusNotFound
	}
	return false
}

func craneOptions(ctx context.Context) []crane.Option {
	return []crane.Option{
		crane.WithContext(ctx),
		crane.WithUserAgent("shipcat/v1"),
	}
}
