package main

import "github.com/fullstorydev/fs-lexicon-sub001/cmd/lexicon-gate/cmd"

func main() {
	cmd.Execute()
}
