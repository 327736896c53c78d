package main

import (
	"github.com/sivaratrisrinivas/TabTalk/cmd"
	"github.com/sivaratrisrinivas/TabTalk/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
