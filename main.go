package main

import (
	"math/rand"
	"time"

	"github.com/luma/numlink/cmd"
)

func main() {
	rand.Seed(time.Now().UnixNano())

	cmd.Execute()
}
