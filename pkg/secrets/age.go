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

package secrets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"
	"sigs.k8s.io/yaml"
)

// AgeKeyFileEnv holds the path to the age identities used to decrypt region secret files.
const AgeKeyFileEnv = "SHIPCAT_AGE_KEY_FILE"

// AgeResolver reads secrets from an age encrypted, armored YAML file
// mapping <service>/<name> keys to values.
// The file is decrypted on first use.
type AgeResolver struct {
	file       string
	identities []age.Identity

	once   sync.Once
	values map[string]string
	err    error
}

func NewAgeResolver(file string, identities []age.Identity) *AgeResolver {
	return &AgeResolver{file: file, identities: identities}
}

// NewAgeResolverFromEnv loads the identities from the file named by SHIPCAT_AGE_KEY_FILE.
func NewAgeResolverFromEnv(file string) (*AgeResolver, error) {
	keyFile := os.Getenv(AgeKeyFileEnv)
	if keyFile == "" {
		return nil, fmt.Errorf("%s must be set to decrypt %s", AgeKeyFileEnv, file)
	}
	identities, err := ParseAgeIdentities(keyFile)
	if err != nil {
		return nil, fmt.Errorf("parsing age identities failed, error: %w", err)
	}
	return NewAgeResolver(file, identities), nil
}

func (a *AgeResolver) Get(_ context.Context, key string) (string, error) {
	a.once.Do(func() {
		a.values, a.err = a.load()
	})
	if a.err != nil {
		return "", a.err
	}
	if v, ok := a.values[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func (a *AgeResolver) load() (map[string]string, error) {
	data, err := os.ReadFile(a.file)
	if err != nil {
		return nil, err
	}
	plain, err := decrypt(data, a.identities)
	if err != nil {
		return nil, fmt.Errorf("decrypting %s failed, error: %w", a.file, err)
	}
	values := make(map[string]string)
	if err := yaml.UnmarshalStrict(plain, &values); err != nil {
		return nil, fmt.Errorf("%s: %w", a.file, err)
	}
	return values, nil
}

// Seal encrypts the secret values for the given recipients in the format read by AgeResolver.
func Seal(values map[string]string, recipients []age.Recipient) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one age recipient is required")
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return nil, err
	}
	return encrypt(data, recipients)
}

func ParseAgeRecipients(filePath string) ([]age.Recipient, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return age.ParseRecipients(f)
}

func ParseAgeIdentities(filePath string) ([]age.Identity, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return age.ParseIdentities(f)
}

func encrypt(data []byte, recipients []age.Recipient) ([]byte, error) {
	buffer := &bytes.Buffer{}
	aw := armor.NewWriter(buffer)
	w, err := age.Encrypt(aw, recipients...)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func decrypt(data []byte, identities []age.Identity) ([]byte, error) {
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), identities...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
