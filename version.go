package main

import "strconv"

var (
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildID   string = "unknown"
	buildDate string = "unknown"
)

const ReactorVersion = "0.1.0"

func ReactorGitSHA1() string {
	return gitSHA1
}

func ReactorGitDirty() string {
	return gitDirty
}

func ReactorBuildIdRaw() string {
	return buildID + buildDate + gitSHA1 + gitDirty
}

// Version renders ReactorVersion with the git commit when it was stamped at build time.
func Version() string {
	version := ReactorVersion
	if sha1Int, err := strconv.ParseInt(ReactorGitSHA1(), 16, 64); err == nil && sha1Int != 0 {
		version += " (git:" + ReactorGitSHA1()
		if dirtyInt, err := strconv.ParseInt(ReactorGitDirty(), 10, 64); err == nil && dirtyInt != 0 {
			version += "-dirty"
		}
		version += ")"
	}
	return version
}
