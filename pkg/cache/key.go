package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// keyPrefix namespaces every cache key.
const keyPrefix = "ghs:"

// Key identifies a cached query response.
type Key struct {
	Endpoint  string
	Query     string
	Variables map[string]any
}

// EndpointPrefix returns the prefix shared by all keys of endpoint.
func EndpointPrefix(endpoint string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return keyPrefix + strings.TrimSuffix(host, "/") + ":"
}

// String returns ghs:<endpoint>:<sha256 of query and variables>.
//
// Variables are hashed in their JSON form, in which map keys are sorted.
func (k Key) String() string {
	vars, err := json.Marshal(k.Variables)
	if err != nil {
		// unencodable variables never match another key
		vars = []byte(err.Error())
	}

	h := sha256.New()
	h.Write([]byte(k.Query))
	h.Write([]byte{0})
	h.Write(vars)
	return EndpointPrefix(k.Endpoint) + hex.EncodeToString(h.Sum(nil))
}
