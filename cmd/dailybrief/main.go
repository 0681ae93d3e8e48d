package main

import (
	"dailybrief/cmd/cmd"
)

func main() {
	cmd.Execute()
}
