package main

import "github.com/droboports/drobuild/internal/drobuild"

func main() {
	drobuild.Main()
}
