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

// Kongfig is the declarative gateway config consumed by the kong syncer.
type Kongfig struct {
	Host      string     `json:"host"`
	Consumers []Consumer `json:"consumers"`
	APIs      []API      `json:"apis"`
}

type Consumer struct {
	Username    string       `json:"username"`
	Credentials []Credential `json:"credentials"`
}

const (
	OAuth2CredentialName = "oauth2"
	JWTCredentialName    = "jwt"
)

type Credential struct {
	Name       string               `json:"name"`
	Attributes CredentialAttributes `json:"attributes"`
}

// CredentialAttributes holds the fields of either an oauth2 or a jwt credential.
type CredentialAttributes struct {
	Name         string   `json:"name,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURI  []string `json:"redirect_uri,omitempty"`

	Key          string `json:"key,omitempty"`
	Algorithm    string `json:"algorithm,omitempty"`
	RSAPublicKey string `json:"rsa_public_key,omitempty"`
}

type API struct {
	Name       string        `json:"name"`
	Attributes APIAttributes `json:"attributes"`
	Plugins    []Plugin      `json:"plugins"`
}

type APIAttributes struct {
	URIs         []string `json:"uris,omitempty"`
	Hosts        []string `json:"hosts"`
	PreserveHost bool     `json:"preserve_host"`
	StripURI     bool     `json:"strip_uri"`
	UpstreamURL  string   `json:"upstream_url"`
}

const (
	CorrelationIDPlugin        = "correlation-id"
	TCPLogPlugin               = "tcp-log"
	OAuth2Plugin               = "oauth2"
	JWTPlugin                  = "jwt"
	JWTValidatorPlugin         = "jwt-validator"
	JSONCookiesToHeadersPlugin = "json-cookies-to-headers"
	JSONCookiesCSRFPlugin      = "json-cookies-csrf"
	RequestTransformerPlugin   = "request-transformer"

	// EnsureRemoved asks the syncer to delete the plugin from the API.
	EnsureRemoved = "removed"
)

// Plugin is either present with attributes or marked as removed.
type Plugin struct {
	Name       string            `json:"name"`
	Ensure     string            `json:"ensure,omitempty"`
	Attributes *PluginAttributes `json:"attributes,omitempty"`
}

// Removed reports whether the syncer should delete the plugin.
func (p Plugin) Removed() bool {
	return p.Ensure == EnsureRemoved
}

type PluginAttributes struct {
	Enabled bool        `json:"enabled"`
	Config  interface{} `json:"config"`
}

type CorrelationIDConfig struct {
	HeaderName     string `json:"header_name"`
	Generator      string `json:"generator"`
	EchoDownstream bool   `json:"echo_downstream"`
}

type TCPLogConfig struct {
	Host      string `json:"host"`
	Port      int32  `json:"port"`
	Timeout   int32  `json:"timeout"`
	KeepAlive int32  `json:"keepalive"`
}

type OAuth2Config struct {
	EnableAuthorizationCode       bool   `json:"enable_authorization_code"`
	EnableClientCredentials       bool   `json:"enable_client_credentials"`
	EnableImplicitGrant           bool   `json:"enable_implicit_grant"`
	EnablePasswordGrant           bool   `json:"enable_password_grant"`
	TokenExpiration               int32  `json:"token_expiration"`
	HideCredentials               bool   `json:"hide_credentials"`
	GlobalCredentials             bool   `json:"global_credentials"`
	AcceptHTTPIfAlreadyTerminated bool   `json:"accept_http_if_already_terminated"`
	Anonymous                     string `json:"anonymous"`
}

type JWTConfig struct {
	URIParamNames  []string `json:"uri_param_names"`
	ClaimsToVerify []string `json:"claims_to_verify"`
	KeyClaimName   string   `json:"key_claim_name"`
	SecretIsBase64 bool     `json:"secret_is_base64"`
	Anonymous      string   `json:"anonymous"`
	RunOnPreflight bool     `json:"run_on_preflight"`
}

type JWTValidatorConfig struct {
	AllowedAudiences   []string `json:"allowed_audiences"`
	ExpectedRegion     string   `json:"expected_region"`
	ExpectedScope      string   `json:"expected_scope"`
	AllowInvalidTokens bool     `json:"allow_invalid_tokens"`
}

type JSONCookiesToHeadersConfig struct {
	FieldName  string `json:"field_name"`
	CookieName string `json:"cookie_name"`
}

type JSONCookiesCSRFConfig struct {
	CSRFFieldName  string `json:"csrf_field_name"`
	CookieName     string `json:"cookie_name"`
	Strict         bool   `json:"strict"`
	CSRFHeaderName string `json:"csrf_header_name"`
}

type RequestTransformerConfig struct {
	HTTPMethod *string          `json:"http_method,omitempty"`
	Remove     HeadersQueryBody `json:"remove"`
	Replace    HeadersQueryBody `json:"replace"`
	Rename     HeadersQueryBody `json:"rename"`
	Add        HeadersQueryBody `json:"add"`
	Append     HeadersQueryBody `json:"append"`
}

type HeadersQueryBody struct {
	Headers     []string `json:"headers,omitempty"`
	Querystring []string `json:"querystring,omitempty"`
	Body        []string `json:"body,omitempty"`
}
