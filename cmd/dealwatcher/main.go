package main

import "deal-reminders/internal/cli"

func main() {
	cli.Execute()
}
