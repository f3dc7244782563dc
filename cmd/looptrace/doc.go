// Package main is the looptrace command line tool.
//
// Usage:
//
//	looptrace run script.js
//	echo "console.log(1)" | looptrace run -
//	looptrace run --format json --settle 250ms script.js
//
// run executes the script once in the sandbox and prints the captured console
// and the sync, microtask and macrotask traces. A script that throws is still
// printed; the exit status is then 1.
package main
