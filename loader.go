/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package xlayer

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadConfigFile reads a YAML file into the map form every config object in this package parses.
func LoadConfigFile(path string) (map[interface{}]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config file [%s]", path)
	}

	return LoadConfig(data)
}

// LoadConfig parses YAML into the map form every config object in this package parses.
func LoadConfig(data []byte) (map[interface{}]interface{}, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "could not parse config")
	}

	if raw == nil {
		return map[interface{}]interface{}{}, nil
	}

	configMap, ok := normalizeConfig(raw).(map[interface{}]interface{})
	if !ok {
		return nil, errors.New("config root must be a map")
	}

	return configMap, nil
}

func normalizeConfig(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		result := make(map[interface{}]interface{}, len(v))
		for key, val := range v {
			result[key] = normalizeConfig(val)
		}
		return result
	case map[interface{}]interface{}:
		result := make(map[interface{}]interface{}, len(v))
		for key, val := range v {
			result[key] = normalizeConfig(val)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = normalizeConfig(val)
		}
		return result
	}
	return value
}
