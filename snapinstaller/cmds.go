// Copyright 2025 AUTHORS
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

package snapinstaller

// Command builders for the `snap` CLI, the Go counterpart of the
// original implementation's snap_cmd helper module. Kept as small
// pure functions so tests can assert on argv shape without mocking
// an executor.

func localInstallCommand(snapPath string, classic, dangerous bool) []string {
	cmd := []string{"snap", "install"}
	if classic {
		cmd = append(cmd, "--classic")
	}
	if dangerous {
		cmd = append(cmd, "--dangerous")
	}
	return append(cmd, snapPath)
}

func remoteInstallCommand(name, channel string, classic bool) []string {
	cmd := []string{"snap", "install", name, "--channel=" + channel}
	if classic {
		cmd = append(cmd, "--classic")
	}
	return cmd
}

func refreshCommand(name, channel string) []string {
	return []string{"snap", "refresh", name, "--channel=" + channel}
}

func removeCommand(name string) []string {
	return []string{"snap", "remove", name}
}

func ackCommand(assertPath string) []string {
	return []string{"snap", "ack", assertPath}
}

func knownCommand(query []string) []string {
	return append([]string{"snap", "known"}, query...)
}

func packCommand(snapDir, output string) []string {
	return []string{"snap", "pack", snapDir, "--filename=" + output}
}
