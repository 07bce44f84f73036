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

package echo

import (
	"fmt"

	"github.com/openziti/xlayer"
)

// Factory builds echo modules from a ModuleConfig. The only option is `random`, an integer from 0 to 9 the
// module answers GET /random with instead of a random one.
type Factory struct{}

var _ xlayer.ModuleFactory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{}
}

func (factory *Factory) Binding() string {
	return Binding
}

func (factory *Factory) New(config *xlayer.ModuleConfig) (xlayer.Module, error) {
	random, err := randomOption(config.Options())
	if err != nil {
		return nil, err
	}
	module, err := New(random)
	if err != nil {
		return nil, err
	}
	return module, nil
}

func (factory *Factory) Validate(config *xlayer.ModuleConfig) error {
	_, err := randomOption(config.Options())
	return err
}

func randomOption(options map[interface{}]interface{}) (int, error) {
	randomInterface, ok := options["random"]
	if !ok {
		return -1, nil
	}

	random, ok := randomInterface.(int)
	if !ok {
		return 0, fmt.Errorf("random must be an integer, got %T", randomInterface)
	}

	if random < 0 || random > 9 {
		return 0, fmt.Errorf("random must be 0-9, got %d", random)
	}

	return random, nil
}
