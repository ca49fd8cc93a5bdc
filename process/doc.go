// Package process runs local subprocesses and captures or streams their
// output. It backs every command this module issues: build-tool invocations
// against a staged working directory, and composed ssh/scp invocations
// against cluster members.
package process
