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

package awserrors

import (
	"errors"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"
)

// State reason codes reported by DescribeInstances once an instance has
// left the running set.
const (
	ReasonInstanceShutdown     = "Client.InstanceInitiatedShutdown"
	ReasonUserShutdown         = "Client.UserInitiatedShutdown"
	ReasonInsufficientCapacity = "Server.InsufficientInstanceCapacity"
	ReasonSpotTermination      = "Server.SpotInstanceTermination"
)

var (
	// This is not an exhaustive list, add to it as needed
	notFoundErrorCodes = []string{
		"InvalidInstanceID.NotFound",
		"NoSuchBucket",
		"NotFound",
	}
	noLogDataErrorCodes = []string{
		"ResourceNotFoundException",
		"ResourceInUseException",
	}
	// retriableReasonCodes signify that the instance was lost to a
	// capacity shortage or preemption and the job should be relaunched.
	retriableReasonCodes = []string{
		ReasonInsufficientCapacity,
		ReasonSpotTermination,
	}
)

// IsNotFound returns true if the err is an AWS error (even if it's
// wrapped) known to mean "not found" (as opposed to a more serious or
// unexpected error).
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(notFoundErrorCodes, apiErr.ErrorCode())
	}
	return false
}

// IsNoLogData returns true for the log API errors that mean the job's
// log stream does not exist yet.
func IsNoLogData(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return lo.Contains(noLogDataErrorCodes, apiErr.ErrorCode())
	}
	return false
}

// IsRetriableReason returns true if the instance state reason means
// capacity was lost and the job can be relaunched elsewhere.
func IsRetriableReason(code string) bool {
	return lo.Contains(retriableReasonCodes, code)
}
