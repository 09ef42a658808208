// Command icsneo-build prepares libicsneo for use from Go: it fetches and
// builds the native library, emits the cgo link flags and generates the
// binding file.
package main

import "github.com/icsneo-go/icsneo-build/cmd/icsneo-build/internal"

func main() {
	internal.Execute()
}
