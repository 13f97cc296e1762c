package sql

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect 描述不同数据库之间的 SQL 差异
type dialect struct {
	name string // database/sql 驱动名

	// 占位符使用 $1..$n
	numbered bool
	// 插入后通过 RETURNING 取回自增主键（lib/pq 不支持 LastInsertId）
	returning bool
	// 插入冲突时忽略的语句前缀与后缀
	insertIgnorePrefix string
	insertIgnoreSuffix string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:               "sqlite",
		insertIgnorePrefix: "INSERT OR IGNORE INTO",
	},
	"postgres": {
		name:               "postgres",
		numbered:           true,
		returning:          true,
		insertIgnorePrefix: "INSERT INTO",
		insertIgnoreSuffix: " ON CONFLICT DO NOTHING",
	},
	"pgx": {
		name:               "pgx",
		numbered:           true,
		returning:          true,
		insertIgnorePrefix: "INSERT INTO",
		insertIgnoreSuffix: " ON CONFLICT DO NOTHING",
	},
	"mysql": {
		name:               "mysql",
		insertIgnorePrefix: "INSERT IGNORE INTO",
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, pgx, mysql)", name)
	}
	return d, nil
}

// isPostgres 判断是否为 PostgreSQL（lib/pq 或 pgx）
func (d dialect) isPostgres() bool {
	return d.name == "postgres" || d.name == "pgx"
}

// rebind 将 ? 占位符按方言改写
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// insertIgnore 构造“已存在则忽略”的插入语句
func (d dialect) insertIgnore(table, columns, values string) string {
	return fmt.Sprintf("%s %s (%s) VALUES (%s)%s", d.insertIgnorePrefix, table, columns, values, d.insertIgnoreSuffix)
}
