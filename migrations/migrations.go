// Package migrations はバッチフレームワークのスキーマ定義をバイナリに埋め込みます。
package migrations

import "embed"

// FS は batch/<dbType> ディレクトリ配下のマイグレーションファイルを保持します。
//
//go:embed batch/postgres/*.sql batch/mysql/*.sql
var FS embed.FS

// Dir はデータベースタイプに対応する埋め込みディレクトリを返します。
// redshift は postgres のスキーマを使用します。
func Dir(dbType string) (string, bool) {
	switch dbType {
	case "postgres", "redshift":
		return "batch/postgres", true
	case "mysql":
		return "batch/mysql", true
	default:
		return "", false
	}
}
