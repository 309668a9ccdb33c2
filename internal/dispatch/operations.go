package dispatch

import (
	"fmt"

	"github.com/guseggert/opsbot/internal/confirm"
	"github.com/guseggert/opsbot/internal/process"
)

const (
	RegrasName     = "regras"
	UpdateDBName   = "updatedb"
	UpdateDBAction = "update_db"
)

const (
	regrasUsage = "Устанавливает сервер администрирования RAS как службу Windows\n" +
		"Использование: /regras <Версия платформы>"
	updateDBUsage = "Обновляет конфигурацию информационной базы\n" +
		"Использование: /updatedb <Пользователь> <Пароль>"
)

// Regras installs the RAS administration server as a service for a platform version.
// installer is the command prefix the version is appended to.
func Regras(installer []string) Operation {
	installer = append([]string(nil), installer...)
	return Operation{
		Name:  RegrasName,
		Usage: regrasUsage,
		Arity: 1,
		Command: func(args []string) process.Spec {
			argv := append(append([]string(nil), installer...), args[0])
			return process.NewSpec(fmt.Sprintf("Установка RAS для версии %s", args[0]), argv...)
		},
	}
}

// UpdateDB upgrades the infobase configuration. It is destructive, so it goes through the confirmation gate.
// command is the command prefix (the compiled updater, or the script interpreter plus script in dev mode).
func UpdateDB(command []string, infobase string, dev bool) Operation {
	command = append([]string(nil), command...)
	description := "Обновление базы"
	if dev {
		description = "Обновление базы (dev)"
	}
	return Operation{
		Name:   UpdateDBName,
		Usage:  updateDBUsage,
		Arity:  2,
		Action: UpdateDBAction,
		Command: func(args []string) process.Spec {
			argv := append(append([]string(nil), command...), infobase, args[0], args[1])
			return process.NewSpec(description, argv...).WithSecret(len(argv) - 1)
		},
	}
}

// Actions lists the confirmation actions declared by ops.
func Actions(ops ...Operation) []confirm.Action {
	var actions []confirm.Action
	for _, op := range ops {
		if op.risky() {
			actions = append(actions, confirm.Action{Name: op.Action, Arity: op.Arity})
		}
	}
	return actions
}
