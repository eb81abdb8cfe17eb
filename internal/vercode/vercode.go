// Package vercode генерирует короткие коды подтверждения, по которым персонал
// сверяет приглашённого гостя при посадке.
package vercode

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Alphabet — алфавит кодов без визуально похожих символов (I, O, 0, 1).
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length — длина кода подтверждения.
const Length = 4

// ErrExhaustedKeyspace возвращается, когда множество исключённых кодов
// практически исчерпало пространство кодов. На практике не ожидается:
// пространство составляет 32^4 кодов, одновременно вызванных гостей — десятки.
var ErrExhaustedKeyspace = errors.New("vercode: пространство кодов исчерпано")

// Generate выдаёт новый код, не входящий в excluding (коды, активные сейчас
// для той же очереди). Коды возвращаются в верхнем регистре. Функция чистая и
// потокобезопасная: состояние не разделяется, источник случайности — crypto/rand.
func Generate(excluding map[string]struct{}) (string, error) {
	return generate(Alphabet, Length, excluding)
}

func generate(alphabet string, length int, excluding map[string]struct{}) (string, error) {
	keyspace := 1
	for i := 0; i < length; i++ {
		keyspace *= len(alphabet)
	}
	if len(excluding) >= keyspace {
		return "", ErrExhaustedKeyspace
	}

	// Повторяем с новой случайностью, пока не найдём свободный код.
	// Ограничение по числу попыток — защитная мера на случай почти полного
	// заполнения пространства.
	maxAttempts := 100 + len(excluding)
	buf := make([]byte, length)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				return "", err
			}
			buf[i] = alphabet[n.Int64()]
		}
		code := string(buf)
		if _, busy := excluding[code]; !busy {
			return code, nil
		}
	}
	return "", ErrExhaustedKeyspace
}

// Normalize приводит пользовательский ввод кода к канонической форме
// (верхний регистр, без пробелов по краям).
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Matches сравнивает сохранённый код с введённым без учёта регистра.
func Matches(stored, provided string) bool {
	return stored != "" && stored == Normalize(provided)
}
