// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSConfig holds TLS options for provider endpoints behind corporate proxies
// or self-signed gateways.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Dev and test only.
	InsecureSkipVerify bool
	// CACertificate is a path to an additional PEM CA bundle.
	CACertificate string
}

// ConfigureTLS builds an http.Transport from config.
func ConfigureTLS(config *TLSConfig) (*http.Transport, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}
	if config == nil {
		return transport, nil
	}

	if config.CACertificate != "" {
		caCert, err := os.ReadFile(config.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", config.CACertificate, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates parsed from %s", config.CACertificate)
		}
		transport.TLSClientConfig.RootCAs = pool
	}

	transport.TLSClientConfig.InsecureSkipVerify = config.InsecureSkipVerify

	return transport, nil
}

// WithTLSConfig applies config to the client transport. Invalid TLS material
// is an error surfaced at construction rather than on first request.
func WithTLSConfig(config *TLSConfig) (Option, error) {
	transport, err := ConfigureTLS(config)
	if err != nil {
		return nil, err
	}
	return func(c *Client) {
		if c.client == nil {
			c.client = &http.Client{Timeout: 60 * time.Second}
		}
		c.client.Transport = transport
	}, nil
}
