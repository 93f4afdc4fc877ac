// Command sessionctl administers procedure sessions: schema migrations,
// enqueueing recordings, inspecting status and rebuilding the findings index.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
