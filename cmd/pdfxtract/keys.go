package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/allaspectsdev/pdfxtract/internal/vault"
	"golang.org/x/term"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: pdfxtract keys <get|set|delete>")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "get":
		if v.IsSet() {
			fmt.Println("LLM API key: ****")
		} else {
			fmt.Println("No LLM API key stored")
		}

	case "set":
		fmt.Print("Enter LLM API key: ")
		key, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
			os.Exit(1)
		}
		if err := v.Set(string(key)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("LLM API key stored successfully")

	case "delete":
		if err := v.Delete(); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("LLM API key deleted")

	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		os.Exit(1)
	}
}
