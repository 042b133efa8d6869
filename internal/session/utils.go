// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	controlCharacters = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	tenantIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9_:.@-]+$`)
)

// GenerateRequestID generates a unique request identifier
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// ValidateTenantID validates a tenant ID format
func ValidateTenantID(tenantID string) bool {
	if tenantID == "" || len(tenantID) > 100 {
		return false
	}
	return tenantIDPattern.MatchString(tenantID)
}

// ResolveTenantID picks the tenant identifier for a request. Priority order:
// explicit tenant, header tenant, client IP.
func ResolveTenantID(explicitID, headerID, clientIP string) string {
	if explicitID != "" && ValidateTenantID(explicitID) {
		return explicitID
	}

	if headerID != "" && ValidateTenantID(headerID) {
		return headerID
	}

	if clientIP != "" {
		return fmt.Sprintf("ip:%s", clientIP)
	}

	return "anonymous"
}

// SanitizeUserInput strips control characters and bounds the length of a
// message before it is stored as dialogue state
func SanitizeUserInput(input string) string {
	input = controlCharacters.ReplaceAllString(input, " ")

	const maxInputLength = 2000
	if utf8.RuneCountInString(input) > maxInputLength {
		runes := []rune(input)
		input = string(runes[:maxInputLength])
	}

	return strings.Join(strings.Fields(input), " ")
}
