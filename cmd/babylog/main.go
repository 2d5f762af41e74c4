// Command babylog は授乳・離乳食記録APIのサーバーとワーカーを起動する。
//
// 使い方:
//
//	babylog [serve|worker|recount|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/babylog/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
