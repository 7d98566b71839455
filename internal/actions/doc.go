// Package actions provides the built-in task actions and the registry that maps
// a task description back to its action after a snapshot reload.
//
// Descriptions of built-in actions:
//
//	noop
//	shell: <command line>          run with "sh -c"
//	http: [METHOD] <url>           GET when METHOD is omitted
//	systemd: <op> <unit>           op is start, stop, restart or reload
package actions
