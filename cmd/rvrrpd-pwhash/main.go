// rvrrpd-pwhash is an offline helper that hashes a password supplied
// on stdin with bcrypt, for operators preparing credentials consumed
// by a future management API. It performs no I/O beyond stdin, stdout
// and stderr, and never touches the network or any VRRP state.
package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("rvrrpd-pwhash: read password: %w", err)
	}
	password := trimNewline(line)
	if password == "" {
		return fmt.Errorf("rvrrpd-pwhash: password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("rvrrpd-pwhash: hash password: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
