// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectdb

import (
	"runtime"
	"time"
)

// Set at link time.
var (
	Version   string
	Commit    string
	BuildTime string
	GoVersion = runtime.Version()
)

// VersionInfo describes the running binary.
func VersionInfo() string {
	v := Version
	if v == "" {
		v = "v0.x"
	}
	buildTime := BuildTime
	if buildTime != "" {
		// Normalize the build time into a friendly format in the user's time zone.
		if t, err := time.Parse("2006-01-02T15:04:05+0000", BuildTime); err == nil {
			buildTime = t.Local().Format("Jan _2 2006 3:04PM")
		}
	}
	s := "ObjectDB " + v
	switch {
	case Commit != "" && buildTime != "":
		s += " (" + buildTime + ", " + Commit + ")"
	case Commit != "":
		s += " (" + Commit + ")"
	case buildTime != "":
		s += " (" + buildTime + ")"
	}
	return s + " " + GoVersion
}
