package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// lineIDRegex извлекает токен #<id> из строки журнала.
var lineIDRegex = regexp.MustCompile(`^\[[^\]]*\] #(\d+)`)

// topicHeaderRegex разбирает заголовок журнала топика.
var topicHeaderRegex = regexp.MustCompile(`^# Topic (\d+): (.*)$`)

// scanLog возвращает наибольший ID сообщения, записанный в журнал, попутно
// обрезая незавершенную хвостовую строку, оставшуюся после аварийного
// завершения. Отсутствующий файл дает ID 0.
func scanLog(path string) (int, error) {
	if err := repairLog(path); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	maxID := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m := lineIDRegex.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		id, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return maxID, nil
}

// repairLog обрезает журнал до последней строки с завершающим переводом
// строки. Журнал только дописывается, поэтому единственное возможное
// повреждение — недописанная последняя строка.
func repairLog(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}

	cut := bytes.LastIndexByte(data, '\n') + 1
	return os.Truncate(path, int64(cut))
}

// readTopicHeader читает первую строку журнала топика и возвращает ID и
// исходное имя топика.
func readTopicHeader(path string) (int, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, "", err
		}
		return 0, "", fmt.Errorf("журнал топика %s пуст", path)
	}

	m := topicHeaderRegex.FindStringSubmatch(strings.TrimRight(scanner.Text(), "\r"))
	if m == nil {
		return 0, "", fmt.Errorf("журнал топика %s не начинается с заголовка", path)
	}

	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", err
	}
	return id, m[2], nil
}
