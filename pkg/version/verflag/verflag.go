/*
Copyright 2014 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

	This is based on github.com/kubernetes/kubernetes/pkg/version/verflag/verflag.go,
and does some modification as following:
	- flag is bound to a caller provided flag set
	- restful route support
*/

package verflag

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/tencent/gantry/pkg/version"

	"github.com/emicklei/go-restful"
	"github.com/spf13/pflag"
)

type versionValue int

const (
	VersionFalse versionValue = 0
	VersionTrue  versionValue = 1
	VersionRaw   versionValue = 2
)

const (
	strRawVersion = "raw"
	flagName      = "version"
)

// IsBoolFlag check if is bool flag
func (v *versionValue) IsBoolFlag() bool {
	return true
}

// Set parses "raw" or a bool
func (v *versionValue) Set(s string) error {
	if s == strRawVersion {
		*v = VersionRaw
		return nil
	}
	boolVal, err := strconv.ParseBool(s)
	if boolVal {
		*v = VersionTrue
	} else {
		*v = VersionFalse
	}
	return err
}

// String return version value in string format
func (v *versionValue) String() string {
	if *v == VersionRaw {
		return strRawVersion
	}
	return strconv.FormatBool(*v == VersionTrue)
}

// Type is required by pflag.Value
func (v *versionValue) Type() string {
	return "version"
}

var versionFlag = VersionFalse

// AddFlags registers the --version flag to the flag set
func AddFlags(fs *pflag.FlagSet) {
	fs.Var(&versionFlag, flagName, "Print version information and quit, --version=raw prints all fields")
	// "--version" will be treated as "--version=true"
	fs.Lookup(flagName).NoOptDefVal = "true"
}

// PrintAndExitIfRequested will check if the --version flag was passed
// and print the version and exit if passed.
func PrintAndExitIfRequested() {
	if printVersion(os.Stdout, versionFlag) {
		os.Exit(0)
	}
}

func printVersion(w io.Writer, v versionValue) bool {
	switch v {
	case VersionRaw:
		fmt.Fprintf(w, "%#v\n", version.Get())
	case VersionTrue:
		fmt.Fprintf(w, "gantry %s\n", version.Get())
	default:
		return false
	}
	return true
}

// RequestVersion writes version info as json
func RequestVersion(request *restful.Request, response *restful.Response) {
	response.WriteHeaderAndEntity(http.StatusOK, version.Get())
}
