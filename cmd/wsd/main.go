// File: cmd/wsd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/wsreactor/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("wsd failed")
	}
}
