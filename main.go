package main

import "github.com/valory-xyz/lockbox-governor-solana/cmd"

func main() {
	cmd.Execute()
}
