// captive-hashtoken prints a bcrypt hash of an API token for the
// auth_token_hash setting in captive-dhcpd's [api] section.
// Usage:
//
//	captive-hashtoken
//	captive-hashtoken -cost 12
//	echo 'my-token' | captive-hashtoken
//	captive-hashtoken -generate
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	generate := flag.Bool("generate", false, "generate a random token, print it to stderr and hash it")
	flag.Parse()

	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fatalf("cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	var token string
	var err error
	switch {
	case *generate:
		token, err = randomToken()
		if err == nil {
			fmt.Fprintf(os.Stderr, "token: %s\n", token)
		}
	case flag.NArg() > 0:
		token = flag.Arg(0)
	case !term.IsTerminal(int(os.Stdin.Fd())):
		token, err = readLine(os.Stdin)
	default:
		token, err = prompt()
	}
	if err != nil {
		fatalf("%v", err)
	}

	hash, err := hashToken(token, *cost)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(hash)
}

func hashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", errors.New("token must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// readLine returns the first line of r with surrounding space trimmed.
func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New("empty token from stdin")
	}
	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", errors.New("empty token from stdin")
	}
	return token, nil
}

// prompt reads the token twice with echo off.
func prompt() (string, error) {
	fd := int(os.Stdin.Fd())

	fmt.Fprint(os.Stderr, "Token: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading confirmation: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("tokens do not match")
	}
	return string(first), nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
