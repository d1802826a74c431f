// Command katagollum is a trash-talking Go opponent: a KataGo engine drives
// the moves while a tool-calling language model does the talking.
package main

func main() {
	Execute()
}
