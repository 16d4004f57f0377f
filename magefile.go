//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binDir = "bin"

// Build compiles the chat server and terminal client.
func Build() error {
	mg.Deps(Vet)
	fmt.Println("Building chatserver and chatclient...")
	if err := sh.RunV("go", "build", "-o", binDir+"/chatserver", "./cmd/chatserver"); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", binDir+"/chatclient", "./cmd/chatclient")
}

// Test runs the test suite with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Vet runs go vet.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Server builds and starts the chat server.
func Server() error {
	mg.Deps(Build)
	return sh.RunV(binDir + "/chatserver")
}

// Clean removes build output.
func Clean() error {
	fmt.Println("Cleaning...")
	return os.RemoveAll(binDir)
}
