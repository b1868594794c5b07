package main

import "github.com/andresmejia3/centerstage/cmd"

func main() {
	cmd.Execute()
}
