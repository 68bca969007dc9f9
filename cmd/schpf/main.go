// Command schpf trains and applies hierarchical Poisson factorization
// models on sparse count matrices.
//
// Usage:
//
//	schpf train   --input counts.txt --k 7 --output model.gob
//	schpf project --model model.gob --input new_counts.txt --output proj.gob
//
// A TOML file passed via --config supplies option defaults; explicit
// flags always win over the file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "schpf:", err)
		os.Exit(1)
	}
}
