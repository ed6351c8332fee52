package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var root = &cobra.Command{
		Use:          "counsel",
		Short:        "Legal assistant chat backend",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(serveCMD(), migrateCMD(), askCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
