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

package agent

// PayloadPath is where the cloud-init script leaves the payload for
// the agent to pick up on boot.
const PayloadPath = "/etc/hyperdrive/agent.json"

// Payload is the single JSON blob the launcher bakes into the worker's
// cloud-init script. It is everything the agent needs that the instance
// profile does not provide.
type Payload struct {
	JobID     string   `json:"jobid"`
	SQSURL    string   `json:"sqs_url"`
	Prefix    string   `json:"prefix"`
	LogGroup  string   `json:"log_group"`
	ExtraLogs []string `json:"extra_logs"`
}
