package main

import "github.com/frahmantamala/meddevice-orders/cmd"

func main() {
	cmd.Execute()
}
