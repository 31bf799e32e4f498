package main

import "github.com/ValentinKolb/dStudy/cmd"

func main() {
	cmd.Execute()
}
