// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains the objectdb subcommand definitions (1 per file).

Each command file has a new*Command function which returns a cobra.Command
wrapping the matching ctl or server command. NewRootCommand adds them all.
*/
package cmd
