/*
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

package config

import "os"

// WithDefaultString mirrors the teacher's pkg/utils/env helper: a flag's
// default is read from the named environment variable, falling back to def.
func WithDefaultString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}
