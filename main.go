package main

import (
	"fmt"

	"github.com/webitel/im-connect/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
