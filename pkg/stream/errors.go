/*
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

package stream

import "fmt"

// ErrStartRejected is returned when StartStreaming refuses the current settings
type ErrStartRejected struct {
	Reason string
}

func (e ErrStartRejected) Error() string {
	return fmt.Sprintf("Start rejected: %s", e.Reason)
}

type ErrNotConnected struct{}

func (e ErrNotConnected) Error() string {
	return "Stream not connected"
}

type ErrAlreadyStreaming struct{}

func (e ErrAlreadyStreaming) Error() string {
	return "Stream already started"
}
