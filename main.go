/*
Copyright © 2024 Dean
*/
package main

import "nutriplan/cmd"

func main() {
	cmd.Execute()
}
