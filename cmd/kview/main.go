package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kview-dev/kview/cmd/kview/cmds"
	"github.com/kview-dev/kview/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.KviewVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		logrus.WithFields(logrus.Fields{"layer": "kview"}).Debug(err)
		os.Exit(1)
	}
}
