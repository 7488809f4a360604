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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	. "github.com/onsi/gomega"

	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/manifest"
)

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name: "fake-ask",
		Env: map[string]string{
			"DATABASE_URL": manifest.SecretMarker,
			"API_KEY":      manifest.SecretMarker,
			"LOG_LEVEL":    "info",
		},
		SecretFiles: map[string]string{
			"tls.key": manifest.SecretMarker,
		},
	}
}

func TestResolve(t *testing.T) {
	g := NewWithT(t)

	r := StaticResolver{
		"fake-ask/DATABASE_URL": "postgres://user:pass@db:5432/ask",
		"fake-ask/API_KEY":      "key",
		"fake-ask/tls.key":      "pem",
	}

	mf := testManifest()
	g.Expect(mf.Base()).To(BeTrue())
	g.Expect(Resolve(context.Background(), r, mf)).To(Succeed())

	g.Expect(mf.Secrets).To(Equal(map[string]string{
		"DATABASE_URL": "postgres://user:pass@db:5432/ask",
		"API_KEY":      "key",
	}))
	g.Expect(mf.SecretFiles).To(HaveKeyWithValue("tls.key", "pem"))
	g.Expect(mf.Base()).To(BeFalse())
	g.Expect(mf.Env).To(HaveKeyWithValue("DATABASE_URL", manifest.SecretMarker))
}

func TestResolveMissing(t *testing.T) {
	g := NewWithT(t)

	mf := testManifest()
	err := Resolve(context.Background(), StaticResolver{"fake-ask/API_KEY": "key"}, mf)
	g.Expect(err).To(HaveOccurred())

	var missing *MissingSecretsError
	g.Expect(errors.As(err, &missing)).To(BeTrue())
	g.Expect(missing.Keys).To(Equal([]string{"fake-ask/DATABASE_URL", "fake-ask/tls.key"}))
	g.Expect(mf.Secrets).To(BeEmpty())
}

func TestMockResolver(t *testing.T) {
	g := NewWithT(t)

	mf := testManifest()
	g.Expect(Resolve(context.Background(), MockResolver{}, mf)).To(Succeed())
	g.Expect(mf.Secrets).To(HaveKeyWithValue("DATABASE_URL", "fake-ask-database_url"))
}

func newVaultServer(t *testing.T, store map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/v1/")
		switch r.Method {
		case http.MethodGet:
			v, ok := store[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":[]}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{VaultField: v},
			})
		case http.MethodPut, http.MethodPost:
			body := map[string]string{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			store[key] = body[VaultField]
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultResolver(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	store := map[string]string{
		"secret/dev-uk/fake-ask/DATABASE_URL": "postgres://user:pass@db:5432/ask",
	}
	srv := newVaultServer(t, store)
	t.Setenv("VAULT_TOKEN", "root")

	r, err := NewVaultResolver(config.VaultConfig{URL: srv.URL, Folder: "dev-uk"})
	g.Expect(err).NotTo(HaveOccurred())

	v, err := r.Get(ctx, Key("fake-ask", "DATABASE_URL"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal("postgres://user:pass@db:5432/ask"))

	_, err = r.Get(ctx, Key("fake-ask", "API_KEY"))
	g.Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

	g.Expect(r.Put(ctx, Key("fake-ask", "API_KEY"), "key")).To(Succeed())
	g.Expect(store).To(HaveKeyWithValue("secret/dev-uk/fake-ask/API_KEY", "key"))

	v, err = r.Get(ctx, Key("fake-ask", "API_KEY"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal("key"))
}

func TestVaultResolverDenied(t *testing.T) {
	g := NewWithT(t)

	srv := newVaultServer(t, map[string]string{})
	t.Setenv("VAULT_TOKEN", "wrong")

	r, err := NewVaultResolver(config.VaultConfig{URL: srv.URL, Folder: "dev-uk"})
	g.Expect(err).NotTo(HaveOccurred())

	_, err = r.Get(context.Background(), Key("fake-ask", "DATABASE_URL"))
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, ErrNotFound)).To(BeFalse())
}

func TestAgeResolver(t *testing.T) {
	g := NewWithT(t)
	dir := t.TempDir()

	id, err := age.GenerateX25519Identity()
	g.Expect(err).NotTo(HaveOccurred())

	sealed, err := Seal(map[string]string{
		"fake-ask/DATABASE_URL": "postgres://user:pass@db:5432/ask",
	}, []age.Recipient{id.Recipient()})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(sealed)).To(HavePrefix("-----BEGIN AGE ENCRYPTED FILE-----"))

	secretsFile := filepath.Join(dir, "dev-uk.age")
	g.Expect(os.WriteFile(secretsFile, sealed, 0o600)).To(Succeed())

	keyFile := filepath.Join(dir, "key.txt")
	g.Expect(os.WriteFile(keyFile, []byte(id.String()+"\n"), 0o600)).To(Succeed())
	t.Setenv(AgeKeyFileEnv, keyFile)

	r, err := NewResolver(&config.Region{
		Name:    "dev-uk",
		Secrets: config.SecretsConfig{Backend: config.AgeBackend, File: secretsFile},
	})
	g.Expect(err).NotTo(HaveOccurred())

	v, err := r.Get(context.Background(), "fake-ask/DATABASE_URL")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal("postgres://user:pass@db:5432/ask"))

	_, err = r.Get(context.Background(), "fake-ask/API_KEY")
	g.Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
}

func TestAgeResolverWrongIdentity(t *testing.T) {
	g := NewWithT(t)

	owner, err := age.GenerateX25519Identity()
	g.Expect(err).NotTo(HaveOccurred())
	other, err := age.GenerateX25519Identity()
	g.Expect(err).NotTo(HaveOccurred())

	sealed, err := Seal(map[string]string{"a/B": "c"}, []age.Recipient{owner.Recipient()})
	g.Expect(err).NotTo(HaveOccurred())

	file := filepath.Join(t.TempDir(), "secrets.age")
	g.Expect(os.WriteFile(file, sealed, 0o600)).To(Succeed())

	r := NewAgeResolver(file, []age.Identity{other})
	_, err = r.Get(context.Background(), "a/B")
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("decrypting"))
}

func TestNewResolverAgeWithoutKey(t *testing.T) {
	g := NewWithT(t)
	t.Setenv(AgeKeyFileEnv, "")

	_, err := NewResolver(&config.Region{
		Secrets: config.SecretsConfig{Backend: config.AgeBackend, File: "secrets.age"},
	})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring(AgeKeyFileEnv))
}
