/*
Copyright 2024 Blnk Finance Authors.

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

package middleware

import "strings"

// Resource is a protected API resource a bearer token can be scoped to. It is
// the first segment of the route.
type Resource string

// Action is what a scope allows on a resource.
type Action string

const (
	// Actions
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAll    Action = "*"

	// Resources
	ResourceAccounts         Resource = "accounts"
	ResourceTransactions     Resource = "transactions"
	ResourceFastTransactions Resource = "fast-transactions"
	ResourceUtilityPayments  Resource = "utility-payments"
	ResourceAll              Resource = "*"
)

// methodToAction maps HTTP methods to actions
var methodToAction = map[string]Action{
	"GET":    ActionRead,
	"HEAD":   ActionRead,
	"POST":   ActionWrite,
	"PUT":    ActionWrite,
	"PATCH":  ActionWrite,
	"DELETE": ActionDelete,
}

// BuildScope creates a scope string from resource and action
func BuildScope(resource Resource, action Action) string {
	return string(resource) + ":" + string(action)
}

// ParseScope parses a scope string into resource and action
func ParseScope(scope string) (Resource, Action) {
	resource, action, ok := strings.Cut(scope, ":")
	if !ok || strings.Contains(action, ":") {
		return "", ""
	}
	return Resource(resource), Action(action)
}

// HasPermission reports whether scopes allow method on resource. "*" matches
// any resource or any action.
func HasPermission(scopes []string, resource Resource, method string) bool {
	action := methodToAction[method]
	if action == "" {
		return false
	}

	for _, scope := range scopes {
		scopeResource, scopeAction := ParseScope(scope)

		if scopeResource != ResourceAll && scopeResource != resource {
			continue
		}
		if scopeAction == ActionAll || scopeAction == action {
			return true
		}
	}
	return false
}
