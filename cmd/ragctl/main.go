package main

import "os"

func main() {
	err := rootCmd.Execute()
	_ = closeCore(nil, nil)
	if err != nil {
		os.Exit(1)
	}
}
