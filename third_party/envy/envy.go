// Package envy automatically exposes environment
// variables for all of your flags.
package envy

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Parse takes a prefix string and exposes environment variables
// for all flags in the default FlagSet (flag.CommandLine) in the
// form of PREFIX_FLAGNAME.  It returns the names of the flags that
// were set from the environment.
func Parse(p string) []string {
	return Update(p, flag.CommandLine)
}

// Update takes a prefix string p and *flag.FlagSet. Each flag
// in the FlagSet is exposed as an upper case environment variable
// prefixed with p. Any flag that was not explicitly set by a user
// is updated to the environment variable, if set.  Values the flag
// rejects are skipped.
func Update(p string, fs *flag.FlagSet) []string {
	// Build a map of explicitly set flags.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var updated []string
	fs.VisitAll(func(f *flag.Flag) {
		envVar := EnvVar(p, f.Name)

		if val := os.Getenv(envVar); val != "" && !set[f.Name] {
			if err := fs.Set(f.Name, val); err == nil {
				updated = append(updated, f.Name)
			}
		}

		// Append the env var to the
		// Flag.Usage field.
		f.Usage = fmt.Sprintf("%s [%s]", f.Usage, envVar)
	})
	return updated
}

// EnvVar returns the environment variable name for flag name with prefix p.
func EnvVar(p, name string) string {
	envVar := fmt.Sprintf("%s_%s", p, strings.ToUpper(name))
	return strings.Replace(envVar, "-", "_", -1)
}
