package baidu_test

import (
	"testing"

	"github.com/hqzhang/indexhunter/internal/baidu"
	"github.com/stretchr/testify/assert"
)

func TestDecrypt_MapsFirstHalfOntoSecondHalf(t *testing.T) {
	// Key "1234567890,%abcdefghij.-": '1'→'a', '2'→'b', ... ','→'.', '%'→'-'
	key := "1234567890,%abcdefghij.-"

	assert.Equal(t, "abc", baidu.Decrypt(key, "123"))
	assert.Equal(t, "a.b.c", baidu.Decrypt(key, "1,2,3"))
	assert.Equal(t, "j", baidu.Decrypt(key, "0"))
}

func TestDecrypt_UnmappedRunesPassThrough(t *testing.T) {
	// Key "12" maps only '1'→'2'; the '2' in the ciphertext has no mapping
	// and passes through.
	assert.Equal(t, "22", baidu.Decrypt("12", "21"))
}

func TestDecrypt_EmptyKeyYieldsEmpty(t *testing.T) {
	assert.Equal(t, "", baidu.Decrypt("", "123"))
}

func TestDecrypt_EmptyCiphertextYieldsEmpty(t *testing.T) {
	assert.Equal(t, "", baidu.Decrypt("12", ""))
}

func TestDecrypt_RoundTripsThroughInverseKey(t *testing.T) {
	key := "abcdef123456"
	inverse := "123456abcdef"
	plain := "654321"

	encrypted := baidu.Decrypt(inverse, plain)
	assert.Equal(t, "fedcba", encrypted)
	assert.Equal(t, plain, baidu.Decrypt(key, encrypted))
}

func TestParseSeries_ParsesIntegers(t *testing.T) {
	assert.Equal(t, []int64{100, 200, 300}, baidu.ParseSeries("100,200,300"))
}

func TestParseSeries_EmptySegmentsDecodeAsZero(t *testing.T) {
	assert.Equal(t, []int64{100, 0, 300}, baidu.ParseSeries("100,,300"))
}

func TestParseSeries_MalformedSegmentsDecodeAsZero(t *testing.T) {
	assert.Equal(t, []int64{100, 0, 300}, baidu.ParseSeries("100,garbage,300"))
}

func TestParseSeries_EmptyInputYieldsNil(t *testing.T) {
	assert.Nil(t, baidu.ParseSeries(""))
}
