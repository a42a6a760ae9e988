package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ltn is a short alias that replaces itself with lantern.
func main() {
	bin, err := exec.LookPath("lantern")
	if err != nil {
		fmt.Fprintln(os.Stderr, "ltn: lantern not found on PATH")
		os.Exit(1)
	}
	if err := syscall.Exec(bin, append([]string{"lantern"}, os.Args[1:]...), os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "ltn: %v\n", err)
		os.Exit(1)
	}
}
