// cmd/transcriptqa/main.go
package main

import "github.com/Corphon/TranscriptQA/internal/cli"

func main() {
	cli.Execute()
}
