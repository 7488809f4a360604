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

package kong

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shipcat/shipcat/pkg/config"
	"github.com/shipcat/shipcat/pkg/manifest"
)

const (
	AnonymousConsumer = "anonymous"
	JWTAlgorithm      = "RS256"

	DefaultExpectedScope = "internal"

	cookieTokenField   = "kong_token"
	cookieTokenName    = "autologin_token"
	csrfTokenField     = "csrf_token"
	csrfCookieName     = "autologin_info"
	csrfHeaderName     = "x-security-token"
	upstreamHeaderName = "Upstream-Service"
)

// Generate builds the gateway config of a region from the manifests of its services.
// Manifests that are disabled in the region or have no kong block are skipped.
func Generate(conf *config.Config, region *config.Region, manifests []*manifest.Manifest) (*Kongfig, error) {
	if _, err := conf.GetRegion(region.Name); err != nil {
		return nil, err
	}

	kfg := &Kongfig{
		Host:      region.Kong.Host,
		Consumers: consumers(region.Kong),
		APIs:      []API{},
	}

	sorted := make([]*manifest.Manifest, 0, len(manifests))
	for _, mf := range manifests {
		if mf.Kong == nil || !mf.Enabled() {
			continue
		}
		if mf.Region != region.Name {
			return nil, fmt.Errorf("%s was built for region %s, not %s", mf.Name, mf.Region, region.Name)
		}
		sorted = append(sorted, mf)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	for _, mf := range sorted {
		kfg.APIs = append(kfg.APIs, api(region, mf))
	}
	return kfg, nil
}

func consumers(kc config.KongConfig) []Consumer {
	result := make([]Consumer, 0, len(kc.Consumers)+len(kc.JWTConsumers)+1)

	for _, name := range sortedKeys(kc.Consumers) {
		c := kc.Consumers[name]
		username := name
		if c.Username != "" {
			username = c.Username
		}
		result = append(result, Consumer{
			Username: username,
			Credentials: []Credential{{
				Name: OAuth2CredentialName,
				Attributes: CredentialAttributes{
					Name:         username,
					ClientID:     c.OAuthClientID,
					ClientSecret: c.OAuthClientSecret,
					RedirectURI:  []string{"http://example.com/unused"},
				},
			}},
		})
	}

	for _, name := range sortedKeys(kc.JWTConsumers) {
		c := kc.JWTConsumers[name]
		result = append(result, Consumer{
			Username: name,
			Credentials: []Credential{{
				Name: JWTCredentialName,
				Attributes: CredentialAttributes{
					Key:          c.Kid,
					Algorithm:    JWTAlgorithm,
					RSAPublicKey: c.PublicKey,
				},
			}},
		})
	}

	return append(result, Consumer{Username: AnonymousConsumer, Credentials: []Credential{}})
}

func api(region *config.Region, mf *manifest.Manifest) API {
	k := mf.Kong

	hosts := []string{}
	if mf.PubliclyAccessible && region.Kong.HostSuffix != "" {
		hosts = append(hosts, fmt.Sprintf("%s.%s", mf.Name, region.Kong.HostSuffix))
	}
	hosts = append(hosts, mf.Hosts...)

	upstream := k.UpstreamURL
	if upstream == "" {
		upstream = fmt.Sprintf("http://%s.%s.svc.cluster.local", mf.Name, mf.Namespace)
	}

	return API{
		Name: mf.Name,
		Attributes: APIAttributes{
			URIs:         splitURIs(k.URIs),
			Hosts:        hosts,
			PreserveHost: k.PreserveHost,
			StripURI:     k.StripURI,
			UpstreamURL:  upstream,
		},
		Plugins: plugins(region, mf),
	}
}

// plugins returns every known plugin in a fixed order, absent plugins are marked as removed.
func plugins(region *config.Region, mf *manifest.Manifest) []Plugin {
	k := mf.Kong
	kc := region.Kong

	tcpLog := TCPLogConfig{Timeout: 10000, KeepAlive: 60000}
	if kc.TCPLog != nil {
		tcpLog.Host = kc.TCPLog.Host
		tcpLog.Port = kc.TCPLog.Port
	}

	scope := kc.JWTValidator.ExpectedScope
	if scope == "" {
		scope = DefaultExpectedScope
	}
	audiences := append([]string{}, kc.JWTValidator.AllowedAudiences...)

	return []Plugin{
		present(CorrelationIDPlugin, true, CorrelationIDConfig{
			HeaderName:     kc.GetCorrelationIDHeader(),
			Generator:      "uuid",
			EchoDownstream: true,
		}),
		present(TCPLogPlugin, kc.TCPLog != nil, tcpLog),
		optional(k.Auth == manifest.AuthOAuth2, OAuth2Plugin, OAuth2Config{
			EnableClientCredentials: true,
			TokenExpiration:         7200,
			HideCredentials:         true,
			GlobalCredentials:       true,
		}),
		optional(k.Auth == manifest.AuthJWT, JWTPlugin, JWTConfig{
			URIParamNames:  []string{},
			ClaimsToVerify: []string{"exp"},
			KeyClaimName:   "kid",
			Anonymous:      "",
		}),
		optional(k.Auth == manifest.AuthJWT, JWTValidatorPlugin, JWTValidatorConfig{
			AllowedAudiences: audiences,
			ExpectedRegion:   region.Name,
			ExpectedScope:    scope,
		}),
		optional(k.CookieAuth, JSONCookiesToHeadersPlugin, JSONCookiesToHeadersConfig{
			FieldName:  cookieTokenField,
			CookieName: cookieTokenName,
		}),
		optional(k.CookieAuthCSRF, JSONCookiesCSRFPlugin, JSONCookiesCSRFConfig{
			CSRFFieldName:  csrfTokenField,
			CookieName:     csrfCookieName,
			Strict:         true,
			CSRFHeaderName: csrfHeaderName,
		}),
		present(RequestTransformerPlugin, true, upstreamHeader(mf.Name)),
	}
}

func upstreamHeader(svc string) RequestTransformerConfig {
	header := fmt.Sprintf("%s: %s", upstreamHeaderName, svc)
	return RequestTransformerConfig{
		Add:     HeadersQueryBody{Headers: []string{header}},
		Replace: HeadersQueryBody{Headers: []string{header}},
	}
}

func present(name string, enabled bool, cfg interface{}) Plugin {
	return Plugin{
		Name:       name,
		Attributes: &PluginAttributes{Enabled: enabled, Config: cfg},
	}
}

func optional(ok bool, name string, cfg interface{}) Plugin {
	if !ok {
		return Plugin{Name: name, Ensure: EnsureRemoved}
	}
	return present(name, true, cfg)
}

func splitURIs(uris string) []string {
	var result []string
	for _, u := range strings.Split(uris, ",") {
		if u = strings.TrimSpace(u); u != "" {
			result = append(result, u)
		}
	}
	return result
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
